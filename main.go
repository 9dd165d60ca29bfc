package main

import "github.com/datasafe/papl/cmd"

func main() {
	cmd.Execute()
}
