package main

import "VKMBot/cmd"

func main() {
	cmd.Execute()
}
