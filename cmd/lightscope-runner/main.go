package main

import "github.com/thelightscope/lightscope-updater/cmd/lightscope-runner/cmd"

func main() {
	cmd.Execute()
}
