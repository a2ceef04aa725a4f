package main

import "github.com/thelightscope/lightscope-updater/cmd/lightscope-signer/cmd"

func main() {
	cmd.Execute()
}
