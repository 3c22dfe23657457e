package main

import "github.com/zeusync/treesync/cmd/treesync/cmd"

func main() {
	cmd.Execute()
}
