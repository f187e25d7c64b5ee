// rdsaudit - cross-account RDS inventory and utilization report
package main

func main() {
	Execute()
}
