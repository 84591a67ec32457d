package main

import "github.com/nbassil/dialdispatch/services/dialerd/cli"

func main() {
	cli.Execute()
}
