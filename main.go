package main

import "github.com/notargets/gohalo/cmd"

func main() {
	cmd.Execute()
}
