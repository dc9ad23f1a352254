package main

import "github.com/cloudreap/cloudreap/cmd/cloudreap/commands"

func main() {
	commands.Execute()
}
