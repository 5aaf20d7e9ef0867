package main

import "github.com/adamgarcia4/goLearning/hydfs/cmd"

func main() {
	cmd.Execute()
}
