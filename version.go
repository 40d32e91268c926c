package flipswitch

const VERSION = "1.2.0"
