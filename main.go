package main

import (
	"github.com/axellelanca/linkcloak/cmd"
	_ "github.com/axellelanca/linkcloak/cmd/cli"
	_ "github.com/axellelanca/linkcloak/cmd/server"
)

func main() {
	cmd.Execute()
}
