package main

import "wakeline/cmd"

func main() {
	cmd.Execute()
}
