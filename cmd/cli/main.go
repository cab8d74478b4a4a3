package main

import "github.com/memscope-index/cmd/cli/cmd"

func main() {
	cmd.Execute()
}
