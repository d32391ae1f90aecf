//go:build !linux

package worker

func setThreadAttrs(string, int) error { return nil }
