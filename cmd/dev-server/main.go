package main

import "counselchat/cmd/dev-server/command"

func main() {
	command.Execute()
}
