package main

import "time"

// GlobalFlags holds the persistent flags shared by all subcommands
type GlobalFlags struct {
	ConfigPath string
	Verbose    bool
}

type ResetFlags struct {
	YesReally bool
}

type ListFlags struct {
	JSON      bool
	Processes bool // process liveness and name
}

type TriggerFlags struct {
	Slot string
}

type WaitFlags struct {
	Slot      string
	Command   []string
	KeepAlive bool
	Special   bool // run through the shell
}

type SweepFlags struct {
	OlderThan time.Duration
}
