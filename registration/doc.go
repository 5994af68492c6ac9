/*
Package registration creates participant identities and operator roles in the registry.

A participant is registered at the sequence index equal to the registry's current participant count.
The identity address is derived from that index, and a name guard account derived from the canonical
name reserves the name. Two operators registering at the same time race on the identity address and
the loser fails with an "already initialized" conflict. Every attempt therefore starts by looking the
name up and re-reading the count, so a retried registration either finds the participant it (or a
lost earlier attempt) created, or registers at the next free index. Sequence indices are never reused.
*/
package registration
