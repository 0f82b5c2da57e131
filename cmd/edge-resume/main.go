package main

import "github.com/edgeprov/edge-installer/cmd/edge-resume/commands"

func main() {
	commands.Execute()
}
