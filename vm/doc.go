// Package vm implements the PostC virtual machine.
//
// This package contains:
//   - the opcode set and instruction/function/program model
//   - tagged runtime values (int, float, string, bool, array, map)
//   - the stack interpreter with frames, globals and execution budgets
//   - the JSON persisted image reader and writer, with CUE schema checks
//   - the disassembler
package vm
