/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package main

import "loncachat/cmd"

func main() {
	cmd.Execute()
}
