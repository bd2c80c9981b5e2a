package main

import "counselchat/cmd/chat-cli/command"

func main() {
	command.Execute()
}
