//go:build !trialadmin

package main

import "github.com/spf13/cobra"

func adminCommands(*globalFlags) []*cobra.Command { return nil }
