package main

import "sampark/cmd/cli"

func main() {
	cli.Execute()
}
