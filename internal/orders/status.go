package orders

type Status string

// Orders are created as pending; later transitions belong to other services.
const StatusPending Status = "pending"
