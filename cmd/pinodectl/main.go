package main

import "github.com/pinode/mesh/cmd/pinodectl/cmd"

func main() {
	cmd.Execute()
}
