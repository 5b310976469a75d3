// Package types defines the JSON types shared by sofa-server and sofactl.
package types
