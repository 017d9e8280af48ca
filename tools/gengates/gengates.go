// Command gengates emits the Go assembly entry stubs for all 256 IDT vectors
// together with the lookup table used by gate.Init to populate the IDT.
package main

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
)

const numGates = 256

// errorCodeVectors lists the exceptions for which the CPU pushes an error
// code before invoking the gate.
var errorCodeVectors = map[int]bool{
	8:  true, // double fault
	10: true, // invalid TSS
	11: true, // segment not present
	12: true, // stack-segment fault
	13: true, // general protection fault
	14: true, // page fault
	17: true, // alignment check
	21: true, // control protection
	29: true, // VMM communication
	30: true, // security exception
}

func exit(err error) {
	fmt.Fprintf(os.Stderr, "[gengates] error: %s\n", err.Error())
	os.Exit(1)
}

// generate writes the stub source to w.
func generate(w io.Writer) error {
	var buf bytes.Buffer

	buf.WriteString("// Code generated by tools/gengates. DO NOT EDIT.\n\n")
	buf.WriteString("#include \"textflag.h\"\n\n")

	for vector := 0; vector < numGates; vector++ {
		fmt.Fprintf(&buf, "TEXT gateEntry%d<>(SB),NOSPLIT|NOFRAME,$0\n", vector)
		if !errorCodeVectors[vector] {
			buf.WriteString("\tPUSHQ $0\n")
		}
		fmt.Fprintf(&buf, "\tPUSHQ $%d\n", vector)
		buf.WriteString("\tJMP ·gateCommon(SB)\n\n")
	}

	for vector := 0; vector < numGates; vector++ {
		fmt.Fprintf(&buf, "DATA gateEntryTable<>+%d(SB)/8, $gateEntry%d<>(SB)\n", vector*8, vector)
	}
	fmt.Fprintf(&buf, "GLOBL gateEntryTable<>(SB), RODATA|NOPTR, $%d\n\n", numGates*8)

	buf.WriteString("TEXT ·gateEntryAddr(SB),NOSPLIT,$0-16\n")
	buf.WriteString("\tMOVBQZX vector+0(FP), AX\n")
	buf.WriteString("\tLEAQ gateEntryTable<>(SB), BX\n")
	buf.WriteString("\tMOVQ (BX)(AX*8), AX\n")
	buf.WriteString("\tMOVQ AX, ret+8(FP)\n")
	buf.WriteString("\tRET\n")

	_, err := w.Write(buf.Bytes())
	return err
}

func main() {
	out := flag.String("out", "", "output file")
	flag.Parse()

	if *out == "" {
		exit(errors.New("missing -out argument"))
	}

	f, err := os.Create(*out)
	if err != nil {
		exit(err)
	}
	defer f.Close()

	if err = generate(f); err != nil {
		exit(err)
	}
}
