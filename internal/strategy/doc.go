/*
Package strategy routes resource requests to one of three fetch/caching
strategies based on the request path.

Classification uses path-suffix rules in strict precedence order:

 1. 3D model extension (.glb, .gltf): cache-first over the models
    partition
 2. static asset extension (styles, scripts, images, fonts):
    stale-while-revalidate over the static partition
 3. markup or root document: network-first over the runtime partition

Requests failing all three rules, and requests to a different origin, are
not intercepted and pass through to normal network handling untouched.
The selector performs no I/O; each strategy consults and updates exactly
one partition.
*/
package strategy
