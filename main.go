package main

import "github.com/agentic-research/mrds/cmd"

func main() {
	cmd.Execute()
}
