package main

import "github.com/ruchit-p/DynastyMobile-sub004/cli/cmd"

func main() {
	cmd.Execute()
}
