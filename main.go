package main

import "go.unify.dev/uploads/cmd"

func main() {
	cmd.Main()
}
