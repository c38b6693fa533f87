package main

import "github.com/ValentinKolb/txKV/cmd"

func main() {
	cmd.Execute()
}
