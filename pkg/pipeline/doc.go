/*
Package pipeline executes the ordered steps of a conversational turn.

Steps declare the steps they must run after or before; the Assembler validates
these declarations once at startup and produces a single total order. The
Pipeline then walks that order, stopping at the first step that returns Stop.
Every step execution is bracketed by STEP_ENTER and STEP_EXIT (or STEP_ERROR)
audit records, which is what trace reconstruction later relies on.
*/
package pipeline
