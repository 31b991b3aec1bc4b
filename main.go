package main

import "github.com/wkalt/ept/cmd"

func main() {
	cmd.Execute()
}
