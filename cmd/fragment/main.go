package main

import "github.com/bobarin/fragment/internal/cli"

func main() {
	cli.Main()
}
