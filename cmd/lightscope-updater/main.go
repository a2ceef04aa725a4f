package main

import "github.com/thelightscope/lightscope-updater/cmd/lightscope-updater/cmd"

func main() {
	cmd.Execute()
}
