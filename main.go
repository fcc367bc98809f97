package main

import "github.com/danuarta/archive-management/cmd"

func main() {
	cmd.Execute()
}
