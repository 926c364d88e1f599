package main

import "questboard/cmd/cli"

func main() {
	cli.Execute()
}
