package main

import "github.com/edgeprov/edge-installer/cmd/edge-installer/commands"

func main() {
	commands.Execute()
}
