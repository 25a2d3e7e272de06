/*
gridchase trains a tabular Q-learning agent to chase a target across a small grid, first in
simulation and then on a robot cube sitting on a position-coded mat. Training progress and the
Q-table can be watched live in a browser.
*/
package main

import "gridchase/cmd"

func main() {
	cmd.Execute()
}
