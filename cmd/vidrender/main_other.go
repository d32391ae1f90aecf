//go:build !linux

package main

func prepareProcess() {}
