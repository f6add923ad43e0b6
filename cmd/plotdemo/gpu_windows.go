package main

// Ask hybrid-graphics laptops for the discrete GPU.
import _ "github.com/silbinarywolf/preferdiscretegpu"
