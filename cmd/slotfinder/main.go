package main

import "github.com/alex-user-go/slotfinder/internal/cli"

func main() {
	cli.Execute()
}
