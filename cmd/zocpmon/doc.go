/*
Monitors a ZOCP network

zocpmon joins the network as a passive node, subscribes to every peer it
discovers and prints what they announce, change and emit.

Usage:

    zocpmon [Options]

Examples:

    zocpmon -name watcher -verbose
*/
package main
