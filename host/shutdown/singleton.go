package shutdown

// Singleton is assigned once by the Host during startup. Packages that
// need to register a shutdown hook but don't have a Tracker reference
// threaded to them (e.g. a service's init path) use this instead.
var Singleton *Tracker
