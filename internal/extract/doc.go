// Package extract walks markup trees and decoded documents along declarative
// stage lists.
//
// A Hierarchy is plain data: an ordered list of stages, each naming its input
// kind, a path of (tag, attribute filter) steps and an optional named
// transform. Markup descent is strict and fails with a StructuralError when a
// step matches nothing; document descent is lenient and yields Null for
// missing keys. Extract holds no state and is safe for concurrent use.
package extract
