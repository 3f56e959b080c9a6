/*

Process of interpretation

IR Text ->
	parse ->
Intermediate Representation (ir) ->
	analyze ->
Verified Program ->
	interp ->
Value or InterpError

Constants take the same road through consteval,
which runs every initializer in its own interpreter
and keeps the results in evalcache between runs.

*/
package compiler
