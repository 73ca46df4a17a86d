package main

import "github.com/nextlevelbuilder/neuroweave/cmd"

func main() {
	cmd.Execute()
}
