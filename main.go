package main

import "github.com/tanq16/mirrordl/cmd"

func main() {
	cmd.Execute()
}
