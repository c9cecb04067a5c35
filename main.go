package main

import "github.com/agentic-research/nancy/cmd"

func main() {
	cmd.Execute()
}
