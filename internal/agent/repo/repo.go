// Package repo holds the checkpoint repositories and the thread lock.
package repo

const checkpointType = "json"

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nonNilMetadata(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
