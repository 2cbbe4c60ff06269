// Package merger canonicalizes firewall address and port sets.
//
// Address intervals are merged into maximal disjoint intervals and each is
// expressed as aligned CIDR subnets, single IPs or, when no subnet fits, an
// explicit range. Port ranges are merged the same way into single ports and
// port ranges. Everything here is pure and allocation-bounded by the input.
package merger
