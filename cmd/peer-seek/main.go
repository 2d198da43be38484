package main

import "github.com/rudransh-shrivastava/peer-seek/internal/client/cmd"

func main() {
	cmd.Execute()
}
