package main

import "github.com/satriahrh/persona-chat/cmd"

func main() {
	cmd.Execute()
}
