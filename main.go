package main

import (
	"github.com/osicert/osicert/cmd"
)

func main() {
	cmd.Execute()
}
